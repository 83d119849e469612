package firestore

import (
	"fmt"
	"time"

	"github.com/caravela/api/internal/platform/pagination"
)

// Opaque cursor helpers shared by the list queries. Tokens carry the boundary
// sort value plus the document ID tiebreak so pages stay stable when documents
// are inserted between requests.

func encodeTextCursor(value, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{value, docID}})
	if err != nil {
		return ""
	}
	return token
}

func decodeTextCursor(token string) (string, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return "", "", err
	}
	if len(cursor.StartAfter) == 0 {
		return "", "", nil
	}
	if len(cursor.StartAfter) != 2 {
		return "", "", fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	value, valueOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !valueOK || !idOK || docID == "" {
		return "", "", fmt.Errorf("%w: unexpected cursor values", pagination.ErrInvalidPageToken)
	}
	return value, docID, nil
}

func encodeTimeCursor(ts time.Time, docID string) string {
	return encodeTextCursor(ts.UTC().Format(time.RFC3339Nano), docID)
}

func decodeTimeCursor(token string) (time.Time, string, error) {
	raw, docID, err := decodeTextCursor(token)
	if err != nil || docID == "" {
		return time.Time{}, docID, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor timestamp", pagination.ErrInvalidPageToken)
	}
	return ts, docID, nil
}
