package acnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRad50(t *testing.T) {

	for _, name := range []string{"ACNET", "DPM", "CLX01", "A.B$%9", ""} {
		if decoded := Rad50Decode(Rad50Encode(name)); decoded != name {
			t.Errorf("rad50 round trip of <%s> returned <%s>", name, decoded)
		}
	}

	// Lowercase is encoded as uppercase
	if Rad50Encode("acnet") != Rad50Encode("ACNET") {
		t.Errorf("lowercase and uppercase encodings differ")
	}

	// Names longer than six characters are truncated
	if NewTaskHandle("LONGNAME").String() != "LONGNA" {
		t.Errorf("long name not truncated: %s", NewTaskHandle("LONGNAME"))
	}

	// Known value. "A" is index 1 in the first position of the first half
	if Rad50Encode("A") != 1600 {
		t.Errorf("bad encoding for A: %d", Rad50Encode("A"))
	}
}

func TestTrunkNode(t *testing.T) {
	tn := NewTrunkNode(0x0a, 0x06)
	if tn.Raw() != 0x0a06 || tn.Trunk() != 0x0a || tn.Node() != 0x06 {
		t.Fatalf("bad trunk node %v", tn)
	}
	if tn.String() != "0a06" {
		t.Errorf("bad string for trunk node: %s", tn)
	}
}

func TestStatus(t *testing.T) {
	if ACNET_TMO.Facility() != 1 || ACNET_TMO.ErrorNumber() != -6 || !ACNET_TMO.IsFatal() {
		t.Errorf("bad decomposition of ACNET_TMO %d", ACNET_TMO)
	}
	if ACNET_DISCONNECTED.ErrorNumber() != -34 {
		t.Errorf("bad decomposition of ACNET_DISCONNECTED %d", ACNET_DISCONNECTED)
	}
	if ACNET_PEND.IsFatal() {
		t.Errorf("ACNET_PEND is not fatal")
	}
	if _, ok := any(ACNET_TMO).(error); ok {
		t.Errorf("status taken as an error")
	}
}

func TestHeaderCoding(t *testing.T) {
	hdr := NewHeader(FLG_RPY, ACNET_TMO, NewTrunkNode(9, 1), NewTrunkNode(10, 2), NewTaskHandle("DPM"), 17, 0x1234)

	b, err := hdr.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal header: %s", err)
	}
	if len(b) != HeaderSize {
		t.Fatalf("header size is %d", len(b))
	}

	// Check wire order of some fields
	if binary.BigEndian.Uint16(b[0:2]) != FLG_RPY {
		t.Errorf("bad flags in wire")
	}
	if int16(binary.BigEndian.Uint16(b[2:4])) != int16(ACNET_TMO) {
		t.Errorf("bad status in wire")
	}
	if binary.BigEndian.Uint16(b[14:16]) != 0x1234 {
		t.Errorf("bad message id in wire")
	}
	if binary.BigEndian.Uint16(b[16:18]) != HeaderSize {
		t.Errorf("bad length in wire")
	}

	var decoded Header
	if err := decoded.UnmarshalBinary(b); err != nil {
		t.Fatalf("could not unmarshal header: %s", err)
	}
	if decoded != hdr {
		t.Errorf("decoded header %s is not the original %s", decoded, hdr)
	}
	if !decoded.IsReply() || decoded.IsRequest() || decoded.IsCancel() {
		t.Errorf("bad packet type for reply")
	}

	can := NewHeader(FLG_CAN, ACNET_SUCCESS, 1, 2, 3, 4, 5)
	if !can.IsCancel() {
		t.Errorf("cancel not recognized")
	}

	// Too short
	if err := decoded.UnmarshalBinary(b[:10]); err == nil {
		t.Errorf("short header was decoded")
	}

	// Bad length
	binary.BigEndian.PutUint16(b[16:18], 4)
	if err := decoded.UnmarshalBinary(b); err == nil {
		t.Errorf("header with bad length was decoded")
	}
}

func TestReqList(t *testing.T) {
	var rl ReqList
	for i := 0; i < MaxReqListIds+10; i++ {
		rl.Add(ReqId(i))
	}
	if rl.Total != MaxReqListIds || len(rl.Ids) != MaxReqListIds {
		t.Fatalf("list not capped: %d", rl.Total)
	}

	b, err := rl.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal list: %s", err)
	}
	if len(b) != 2+2*MaxReqListIds {
		t.Fatalf("bad list size %d", len(b))
	}
	if binary.BigEndian.Uint16(b[4:6]) != 1 {
		t.Errorf("second id is not 1 in wire")
	}

	var decoded ReqList
	if err := decoded.UnmarshalBinary(b); err != nil {
		t.Fatalf("could not unmarshal list: %s", err)
	}
	if decoded.Total != rl.Total || decoded.Ids[MaxReqListIds-1] != ReqId(MaxReqListIds-1) {
		t.Errorf("bad decoded list")
	}
}

func TestReqDetail(t *testing.T) {
	rd := ReqDetail{Id: 3, RemNode: 0x0901, RemName: NewTaskHandle("RETDAT"), LclName: NewTaskHandle("CLIENT"), InitTime: 1000, LastUpdate: 2000}
	b, err := rd.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal detail: %s", err)
	}
	if len(b) != 20 {
		t.Fatalf("bad detail size %d", len(b))
	}
	var decoded ReqDetail
	if err := decoded.UnmarshalBinary(b); err != nil {
		t.Fatalf("could not unmarshal detail: %s", err)
	}
	if decoded != rd {
		t.Errorf("decoded detail %v is not the original %v", decoded, rd)
	}
}

func TestParseSelector(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint16{0x0901, 0x0a02})

	sel, err := ParseSelector(0, buf.Bytes())
	if err != nil {
		t.Fatalf("error parsing node selector: %s", err)
	}
	if sel.Kind != ByRemoteNode || len(sel.Nodes) != 2 || sel.Nodes[1] != 0x0a02 {
		t.Errorf("bad node selector %v", sel)
	}

	// Odd trailing word is ignored for task handles
	buf.Reset()
	binary.Write(&buf, binary.BigEndian, NewTaskHandle("DPM"))
	binary.Write(&buf, binary.BigEndian, uint16(7))
	sel, err = ParseSelector(2, buf.Bytes())
	if err != nil {
		t.Fatalf("error parsing task selector: %s", err)
	}
	if sel.Kind != ByLocalTask || len(sel.Tasks) != 1 || sel.Tasks[0] != NewTaskHandle("DPM") {
		t.Errorf("bad task selector %v", sel)
	}

	sel, err = ParseSelector(1, nil)
	if err != nil || !sel.IsEmpty() {
		t.Errorf("empty selector not recognized")
	}

	if _, err = ParseSelector(7, []byte{0, 1}); !errors.Is(err, ErrBadSelector) {
		t.Errorf("bad selector kind accepted")
	}
}
