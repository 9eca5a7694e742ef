// Package servicetoken は上流サービスへ認証済みユーザーを伝えるHS256署名のJWTを発行・検証する。
package servicetoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer はトークンのiss クレームのデフォルト値。
const DefaultIssuer = "bff"

// ErrInvalid はトークンの署名・形式・有効期限が不正であることを表す。
var ErrInvalid = errors.New("サービストークンが無効です")

// Claims はサービストークンのクレーム。Subjectに認証済みユーザーのメールアドレスを入れる。
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer はサービストークンの発行者。
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer は署名鍵と有効期間からIssuerを生成する。
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はsubjectを持つトークンを発行する。
func (i *Issuer) Issue(subject string) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("サービストークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Parse はトークンを検証してクレームを返す。HS256以外のアルゴリズムは受け付けない。
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return claims, nil
}
