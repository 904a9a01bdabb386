package gateway

import (
	"context"

	"spark/internal/cache"
	"spark/internal/models"
	"spark/internal/realtime"
)

func (s *Store) GetProfile(ctx context.Context, profileID string) (_ *models.Profile, err error) {
	ctx, finish := s.observe(ctx, "get_profile", realtime.TableProfiles)
	defer finish(&err)

	var profile models.Profile
	err = s.cache.Aside(ctx, cache.ProfileKey(profileID), &profile, cache.ProfileTTL, func() error {
		return s.db.WithContext(ctx).First(&profile, "id = ?", profileID).Error
	})
	if err != nil {
		return nil, translate("get profile", "profile", profileID, err)
	}
	return &profile, nil
}

func (s *Store) InsertProfile(ctx context.Context, profile *models.Profile) (err error) {
	ctx, finish := s.observe(ctx, "insert_profile", realtime.TableProfiles)
	defer finish(&err)

	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		return translate("insert profile", "profile", profile.ID, err)
	}
	s.publish(ctx, realtime.TableProfiles, realtime.EventInsert, map[string]string{"id": profile.ID})
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, viewerID, targetID string, patch models.ProfilePatch) (err error) {
	ctx, finish := s.observe(ctx, "update_profile", realtime.TableProfiles)
	defer finish(&err)

	if viewerID == "" {
		return models.NewUnauthenticatedError("updating a profile")
	}
	if viewerID != targetID {
		return models.NewForbiddenError("a profile can only be updated by its owner")
	}
	if patch.Empty() {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", targetID).Updates(patch.Columns())
	if res.Error != nil {
		return translate("update profile", "profile", targetID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("profile", targetID)
	}

	s.cache.InvalidateProfile(ctx, targetID)
	s.publish(ctx, realtime.TableProfiles, realtime.EventUpdate, map[string]string{"id": targetID})
	return nil
}
