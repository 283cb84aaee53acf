package ledger

import (
	"errors"

	"devbout/models"

	"gorm.io/gorm"
)

// WalletAddress resolves the on-chain address a user receives and sends
// funds with. Settlement cannot proceed without one.
func (s *Store) WalletAddress(userID string) (string, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if user.WalletAddress == "" {
		return "", &ValidationError{Field: "wallet_address", Reason: "user has no wallet address on file"}
	}
	return user.WalletAddress, nil
}
