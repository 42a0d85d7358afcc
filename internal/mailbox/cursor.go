// Package mailbox provides the read side of the inbox: cursor-paginated
// mailbox listings, email detail, and attachment downloads.
package mailbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/driftmail/driftmail/internal/repository"
)

// EncodeCursor renders a page key as an opaque cursor token:
// "{receivedAtEpochMillis}_{emailID}".
func EncodeCursor(key repository.PageKey) string {
	return fmt.Sprintf("%d_%s", key.ReceivedAt, key.ID)
}

// DecodeCursor parses a cursor token back into a page key. Any malformed
// token, whatever the reason, is treated as an absent cursor and returns nil:
// the client simply gets the first page again.
func DecodeCursor(token string) *repository.PageKey {
	if token == "" {
		return nil
	}

	msPart, idPart, found := strings.Cut(token, "_")
	if !found {
		return nil
	}

	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return nil
	}

	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil
	}

	return &repository.PageKey{ReceivedAt: ms, ID: id}
}
