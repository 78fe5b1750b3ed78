package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "crvs/pkg/domain-errors"
)

// TestParseRecordID_TrustBoundary covers the inputs a path parameter can carry.
func TestParseRecordID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE records;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecordID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIDTypes_ConsistentParsing(t *testing.T) {
	valid := uuid.New().String()

	_, errRecord := ParseRecordID(valid)
	_, errEntry := ParseEntryID(valid)
	_, errPractitioner := ParsePractitionerID(valid)
	require.NoError(t, errRecord)
	require.NoError(t, errEntry)
	require.NoError(t, errPractitioner)

	for _, input := range []string{"", "invalid", uuid.Nil.String()} {
		_, errRecord := ParseRecordID(input)
		_, errEntry := ParseEntryID(input)
		_, errPractitioner := ParsePractitionerID(input)
		assert.Error(t, errRecord, input)
		assert.Error(t, errEntry, input)
		assert.Error(t, errPractitioner, input)
	}
}

func TestIDs_JSONRoundTrip(t *testing.T) {
	type payload struct {
		Record RecordID       `json:"record"`
		Actor  PractitionerID `json:"actor"`
	}
	in := payload{Record: NewRecordID(), Actor: PractitionerID(uuid.New())}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), in.Record.String())

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestParseEventType(t *testing.T) {
	e, err := ParseEventType("birth")
	require.NoError(t, err)
	assert.Equal(t, EventTypeBirth, e)

	_, err = ParseEventType("marriage")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseEventType("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
