package storage

import (
	"errors"

	"dmchat/backend/internal/models"

	"gorm.io/gorm"
)

func (s *Service) SaveUser(user *models.User) error {
	return s.DB.Save(user).Error
}

func (s *Service) GetUserByID(id string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUsername assigns the display handle once. A user whose handle is already
// set keeps it; reassignment is rejected.
func (s *Service) SetUsername(userID, username string) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.Username != "" {
		return ErrUsernameSet
	}

	if _, err := s.GetUserByUsername(username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	user.Username = username
	if err := s.DB.Save(user).Error; err != nil {
		// Lost the race for the handle; the unique index kept one owner.
		if _, ferr := s.GetUserByUsername(username); ferr == nil {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// SearchUsers returns up to limit users whose handle contains the query,
// case-insensitively, excluding the caller. An empty query matches nobody.
func (s *Service) SearchUsers(selfID, query string, limit int) ([]models.User, error) {
	if query == "" {
		return []models.User{}, nil
	}
	var users []models.User
	err := s.DB.Where("username ILIKE ? AND id <> ?", "%"+query+"%", selfID).
		Order("username asc").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
