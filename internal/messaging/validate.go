// internal/messaging/validate.go

package messaging

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

const maxBodyLength = 4000

type participants struct {
	LocalID   string `validate:"required,uuid"`
	PartnerID string `validate:"required,uuid,nefield=LocalID"`
}

type user struct {
	UserID string `validate:"required,uuid"`
}

// draft is what a UI action asks to send
type draft struct {
	Body       string
	ReplyToID  *string
	Attachment *Attachment
	// uploading drafts get their attachment location after validation
	uploading bool
}

func validateParticipants(local, partner string) error {
	return asValidationError(utils.ValidateStruct(participants{LocalID: local, PartnerID: partner}))
}

func validateUser(id string) error {
	return utils.ValidateStruct(user{UserID: id})
}

func validateDraft(d *draft) error {
	d.Body = strings.TrimSpace(d.Body)
	if d.Attachment == nil && d.Body == "" {
		return &ValidationError{Field: "Body", Reason: "Body is required"}
	}
	if utf8.RuneCountInString(d.Body) > maxBodyLength {
		return &ValidationError{Field: "Body", Reason: "Body is too long"}
	}
	if d.ReplyToID != nil && (*d.ReplyToID == "" || IsProvisionalID(*d.ReplyToID)) {
		return &ValidationError{Field: "ReplyToID", Reason: "ReplyToID must reference a confirmed message"}
	}
	if d.Attachment != nil {
		a := *d.Attachment
		if d.uploading && a.Location == "" {
			a.Location = "pending"
		}
		if err := utils.ValidateStruct(a); err != nil {
			return asValidationError(err)
		}
	}
	return nil
}

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs utils.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: verrs[0].Field, Reason: verrs[0].Message}
	}
	return &ValidationError{Reason: err.Error()}
}
