package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// minPasswordLength 管理密码最短长度
const minPasswordLength = 6

// ErrPasswordTooShort 密码过短
var ErrPasswordTooShort = errors.New("密码长度至少为6位")

// HashPassword 使用 bcrypt 哈希密码
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword 验证密码是否匹配哈希值，哈希为空时一律失败
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
