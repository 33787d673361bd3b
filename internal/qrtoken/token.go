// Package qrtoken implements the customer QR token lifecycle:
// Unset -> Placeholder("pending:<unix-ms>") -> Finalized("cust:<id>").
package qrtoken

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
)

const (
	PendingPrefix   = "pending:"
	FinalizedPrefix = "cust:"
)

type State int

const (
	Unset State = iota
	Placeholder
	Finalized
)

func (s State) String() string {
	switch s {
	case Placeholder:
		return "placeholder"
	case Finalized:
		return "finalized"
	default:
		return "unset"
	}
}

// NewPlaceholder returns the transient token stored between row creation and
// finalization. A random suffix keeps two enrollments in the same millisecond
// from colliding on the unique qr_code index.
func NewPlaceholder(now time.Time) string {
	return PendingPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

func Finalize(customerID uuid.UUID) string {
	return FinalizedPrefix + customerID.String()
}

func IsPlaceholder(token string) bool {
	return strings.HasPrefix(token, PendingPrefix)
}

// Parse classifies a token. Only Finalized tokens yield a customer id;
// placeholders fail with apperror.ErrQRNotReady.
func Parse(token string) (State, uuid.UUID, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return Unset, uuid.Nil, errors.Wrap(apperror.ErrInvalidQRToken, "empty token")
	case IsPlaceholder(token):
		return Placeholder, uuid.Nil, apperror.ErrQRNotReady
	case strings.HasPrefix(token, FinalizedPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(token, FinalizedPrefix))
		if err != nil {
			return Unset, uuid.Nil, errors.Wrap(apperror.ErrInvalidQRToken, "malformed customer id")
		}
		return Finalized, id, nil
	default:
		return Unset, uuid.Nil, errors.Wrap(apperror.ErrInvalidQRToken, "unknown token format")
	}
}

// PNG renders a finalized token as a QR image. Placeholders are refused so
// an unfinished card can never be shown to staff.
func PNG(token string, size int) ([]byte, error) {
	if _, _, err := Parse(token); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}
