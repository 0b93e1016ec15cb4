package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAzureBlobStore(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name             string
		connectionString string
		containerName    string
		logger           *zap.Logger
		wantErr          bool
		errContains      string
	}{
		{
			name:             "nil logger",
			connectionString: "UseDevelopmentStorage=true",
			containerName:    "models",
			wantErr:          true,
			errContains:      "logger is required",
		},
		{
			name:             "empty connection string",
			containerName:    "models",
			logger:           logger,
			wantErr:          true,
			errContains:      "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: "AccountName=test;AccountKey=dGVzdA==",
			logger:           logger,
			wantErr:          true,
			errContains:      "container name is required",
		},
		{
			name:             "missing key",
			connectionString: "AccountName=test",
			containerName:    "models",
			logger:           logger,
			wantErr:          true,
			errContains:      "account name and key are required",
		},
		{
			name:             "account with suffix",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net",
			containerName:    "models",
			logger:           logger,
		},
		{
			name:             "development storage",
			connectionString: "UseDevelopmentStorage=true",
			containerName:    "models",
			logger:           logger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewAzureBlobStore(tt.connectionString, tt.containerName, tt.logger)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, store)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, store)
		})
	}
}

func TestAzureBlobStoreURL(t *testing.T) {
	store, err := NewAzureBlobStore("UseDevelopmentStorage=true", "models", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/models/run/lin.state", store.URL("/run/lin.state"))

	store, err = NewAzureBlobStore("AccountName=acct;AccountKey=dGVzdA==", "models", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/models/k", store.URL("k"))
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=a; AccountKey=k==;;broken;BlobEndpoint=http://h:1/a")

	assert.Equal(t, map[string]string{
		"AccountName":  "a",
		"AccountKey":   "k==",
		"BlobEndpoint": "http://h:1/a",
	}, params)
}

func TestBlobMetadataKey(t *testing.T) {
	assert.Equal(t, "node", blobMetadataKey("node"))
	assert.Equal(t, "run_id", blobMetadataKey("run-id"))
	assert.Equal(t, "_1st", blobMetadataKey("1st"))
}

func TestAzureBlobStoreRoundTrip(t *testing.T) {
	store, err := NewAzureBlobStore("UseDevelopmentStorage=true", "lbcpp-test", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := store.Save(ctx, "roundtrip/lin.state", []byte(`{"bias":1}`), map[string]string{"node": "lin"}); err != nil {
		t.Skipf("Azurite not available - run 'azurite' for local testing: %v", err)
	}

	data, err := store.Load(ctx, "roundtrip/lin.state")
	require.NoError(t, err)
	assert.Equal(t, `{"bias":1}`, string(data))

	_, err = store.Load(ctx, "roundtrip/missing.state")
	assert.ErrorIs(t, err, ErrNotFound)
}
