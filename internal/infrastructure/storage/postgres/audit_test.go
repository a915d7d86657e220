package postgres

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_PackCompressesLargePayloads(t *testing.T) {
	s, err := NewAuditService(nil, nil)
	require.NoError(t, err)

	small := s.pack(AuditEntry{Changes: json.RawMessage(`{"delta":-3}`)})
	assert.Equal(t, CompressionNone, small.CompressionAlgo)
	assert.Nil(t, small.ChangesCompressed)

	big := json.RawMessage(`"` + string(bytes.Repeat([]byte("a"), 11*1024)) + `"`)
	packed := s.pack(AuditEntry{Changes: big})
	assert.Equal(t, CompressionZstd, packed.CompressionAlgo)
	assert.Nil(t, packed.Changes)
	assert.Less(t, len(packed.ChangesCompressed), len(big))

	raw, err := s.decoder.DecodeAll(packed.ChangesCompressed, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(big), raw)
}
