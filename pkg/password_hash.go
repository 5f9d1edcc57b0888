package pkg

import "golang.org/x/crypto/bcrypt"

const DefaultPasswordHashCost = 14

func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

// CheckPasswordHash compares in constant time (bcrypt uses subtle.ConstantTimeCompare)
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
