package services

import (
	"fmt"

	"duetrec/internal/core/domain"
	"duetrec/pkg/validation"
)

const (
	MaxTitleLength       = 150
	MaxDescriptionLength = 2200
	MaxHashtags          = 30
)

// ValidateOriginal checks the reference video handed to a new duet.
func ValidateOriginal(o domain.OriginalVideo) error {
	if err := validation.ValidateID(o.ID, "video ID"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if err := validation.ValidateMediaURL(o.SourceURL); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if o.Duration <= 0 {
		return fmt.Errorf("%w: video duration must be positive", domain.ErrInvalidSettings)
	}
	if err := validation.ValidateNonEmptyString(o.Creator, "creator"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	return nil
}

// ValidateSettings checks settings against the original they apply to.
func ValidateSettings(s domain.DuetSettings, original domain.OriginalVideo) error {
	if !s.Layout.Valid() {
		return fmt.Errorf("%w: unknown layout %q", domain.ErrInvalidSettings, s.Layout)
	}
	if !s.DuetType.Valid() {
		return fmt.Errorf("%w: unknown duet type %q", domain.ErrInvalidSettings, s.DuetType)
	}
	if !s.AudioMix.Valid() {
		return fmt.Errorf("%w: unknown audio mix %q", domain.ErrInvalidSettings, s.AudioMix)
	}
	if err := validation.ValidateUnitInterval(s.OriginalAudioVolume, "original audio volume"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if err := validation.ValidateUnitInterval(s.DuetAudioVolume, "duet audio volume"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if err := validation.ValidateOffset(s.StartOffset, original.Duration); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	return nil
}

// ValidateMetadata checks publish metadata limits.
func ValidateMetadata(m domain.PublishMetadata) error {
	if err := validation.ValidateNonEmptyString(m.Title, "title"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	if err := validation.ValidateStringLength(m.Title, 1, MaxTitleLength, "title"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	if err := validation.ValidateStringLength(m.Description, 0, MaxDescriptionLength, "description"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	if err := validation.ValidateHashtags(m.Hashtags, MaxHashtags); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	return nil
}
