package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/boletin/internal/model"
)

// Claims はIDアサーション（Google IDトークン）から取り出すクレーム。
type Claims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd,omitempty"`
	jwt.RegisteredClaims
}

// EmailUnverified はアサーションが明示的に email_verified=false を含むかを返す。
func (c *Claims) EmailUnverified() bool {
	return c.EmailVerified != nil && !*c.EmailVerified
}

// AssertionDecoder はIDアサーション文字列をクレームに変換する。
// 失敗時は model.ErrAssertionDecode をラップしたエラーを返す。
type AssertionDecoder interface {
	Decode(ctx context.Context, credential string) (*Claims, error)
}

// UnverifiedDecoder は署名を検証せずにペイロードだけを読み取るデコーダー。
// 署名の信頼はブラウザ側のプロバイダークライアントに委ねる。ローカル開発用。
type UnverifiedDecoder struct {
	parser *jwt.Parser
}

// NewUnverifiedDecoder はUnverifiedDecoderを生成する。
func NewUnverifiedDecoder() *UnverifiedDecoder {
	return &UnverifiedDecoder{parser: jwt.NewParser()}
}

// Decode はJWTの中央セグメントをbase64urlデコードしてJSONとして読み取る。
func (d *UnverifiedDecoder) Decode(_ context.Context, credential string) (*Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", model.ErrAssertionDecode)
	}

	claims := &Claims{}
	if _, _, err := d.parser.ParseUnverified(credential, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAssertionDecode, err)
	}
	if err := requireEmail(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func requireEmail(c *Claims) error {
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" || !strings.Contains(c.Email, "@") {
		return fmt.Errorf("%w: assertion has no email claim", model.ErrAssertionDecode)
	}
	return nil
}

// compile-time interface check
var _ AssertionDecoder = (*UnverifiedDecoder)(nil)
