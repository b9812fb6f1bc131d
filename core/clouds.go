package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

var gsRegex = regexp.MustCompile("gs://([^/]+)/(.+)")

// Retrieves an object from Google Storage.
// It must be specified as gs://<bucket-name>/<object-name>
// Returns the contents of the object and an optional error
func getGoogleStorageObject(objName string) ([]byte, error) {

	// Get the bucket and file names
	matches := gsRegex.FindStringSubmatch(objName)
	if len(matches) != 3 {
		return nil, fmt.Errorf("bad gs URL specification: %s", objName)
	}

	ctx := context.Background()

	// Depending on whether we are using specific credentials file or ADC
	clientOptions, _, err := GetGoogleAccessData(ctx)
	if err != nil {
		return nil, err
	}

	var gs *storage.Client
	if clientOptions == nil {
		gs, err = storage.NewClient(ctx)
	} else {
		gs, err = storage.NewClient(ctx, clientOptions)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating Google storage client: %w", err)
	}
	defer gs.Close()

	objReader, err := gs.Bucket(matches[1]).Object(matches[2]).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create reader for %s due to %w", objName, err)
	}
	defer objReader.Close()

	var contents bytes.Buffer
	if _, err := io.Copy(&contents, objReader); err != nil {
		return nil, fmt.Errorf("could not read %s due to %w", objName, err)
	}

	return contents.Bytes(), nil
}

// Returns the options to use in client building and the project-id
// using the specified credentials file or Google ADC credentials.
// If options is not nil, they must be used to create the client, because specific
// credentials are needed. Otherwise, use the default client creation.
func GetGoogleAccessData(ctx context.Context) (option.ClientOption, string, error) {

	// If passing client credentials, use them to build the client. The projectId is one of the properties
	// of the JSON credentials file
	credentialsFile := os.Getenv("ACNET_CLOUD_CREDENTIALS")
	if credentialsFile != "" {

		GetLogger().Debug("using Google credentials file")

		// To store the json account key file contents
		var cred struct {
			Project_id string
		}

		credBytes, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, "", fmt.Errorf("could not read credentials file %s: %w", credentialsFile, err)
		}
		if err := json.Unmarshal(credBytes, &cred); err != nil || cred.Project_id == "" {
			return nil, "", fmt.Errorf("credentials file %s could not be parsed", credentialsFile)
		}

		return option.WithCredentialsFile(credentialsFile), cred.Project_id, nil
	}

	GetLogger().Debug("using Google ADC")

	// Use ADC to get the default credentials including the projectId
	googleCredentials, err := google.FindDefaultCredentials(ctx, compute.ComputeScope)
	if err != nil {
		return nil, "", fmt.Errorf("could not get default credentials. Are we running in a Google Cloud? %w", err)
	}

	return nil, googleCredentials.ProjectID, nil
}
