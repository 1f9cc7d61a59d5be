package core

import (
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally generated identifiers for records that have not
// been confirmed by the server yet. Server-assigned ids never carry it.
const TempIDPrefix = "temp_"

// NewTempID generates an identifier for a shadow record created while the
// server has not confirmed the write.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id belongs to an unconfirmed local record.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
