package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/boletin/internal/model"
)

const (
	defaultGoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
	tokenLeeway           = 30 * time.Second

	// 鍵セットが空のまま作り直す最小間隔
	defaultRebuildInterval = time.Minute
)

// googleIssuers はGoogle IDトークンのissとして受け入れる値。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// errNoSigningKeys は利用可能なRSA署名鍵がないことを示す。
var errNoSigningKeys = errors.New("no usable RSA signing keys")

// GoogleIDTokenConfig はGoogle IDトークン検証の設定。
type GoogleIDTokenConfig struct {
	ClientID string

	// テスト用にオーバーライド可能なURL
	CertsURL string
}

// GoogleIDTokenVerifier はGoogleの公開鍵（JWKS）でIDトークンのRS256署名を検証する。
// 鍵セットはkeyfuncが保持し、1時間ごとと未知のkid検出時（5分に1回まで）に更新される。
type GoogleIDTokenVerifier struct {
	config GoogleIDTokenConfig
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jwks    keyfunc.Keyfunc
	stop    context.CancelFunc
	rebuild *rate.Limiter
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
// 鍵セットは最初のReadyまたはDecodeで取得する。Closeで更新を止める。
func NewGoogleIDTokenVerifier(config GoogleIDTokenConfig, logger *slog.Logger) *GoogleIDTokenVerifier {
	if config.CertsURL == "" {
		config.CertsURL = defaultGoogleCertsURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GoogleIDTokenVerifier{
		config:  config,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		rebuild: rate.NewLimiter(rate.Every(defaultRebuildInterval), 1),
	}
}

// Close は鍵セットのバックグラウンド更新を停止する。
func (v *GoogleIDTokenVerifier) Close() {
	v.cancel()
}

// Ready は署名鍵セットにRSA鍵が1つ以上あるかを確認する。
func (v *GoogleIDTokenVerifier) Ready(ctx context.Context) error {
	_, n, err := v.keySet(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoSigningKeys
	}
	return nil
}

// Decode はIDトークンの署名・aud・iss・expを検証してクレームを返す。
func (v *GoogleIDTokenVerifier) Decode(ctx context.Context, credential string) (*Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", model.ErrAssertionDecode)
	}

	jwks, _, err := v.keySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAssertionDecode, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(credential, claims, jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAssertionDecode, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", model.ErrAssertionDecode)
	}
	if !validIssuer(claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", model.ErrAssertionDecode, claims.Issuer)
	}
	if err := requireEmail(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// keySet は鍵セットとその中のRSA鍵の数を返す。
// 鍵が1つもない場合（起動時に取得できなかった等）はrebuildの許す範囲で作り直す。
func (v *GoogleIDTokenVerifier) keySet(ctx context.Context) (keyfunc.Keyfunc, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil {
		n := rsaKeyCount(ctx, v.jwks)
		if n > 0 || !v.rebuild.Allow() {
			return v.jwks, n, nil
		}
		v.stop()
		v.jwks = nil
	}

	setCtx, stop := context.WithCancel(v.ctx)
	jwks, err := keyfunc.NewDefaultCtx(setCtx, []string{v.config.CertsURL})
	if err != nil {
		stop()
		return nil, 0, fmt.Errorf("failed to load signing keys: %w", err)
	}
	v.jwks, v.stop = jwks, stop

	n := rsaKeyCount(ctx, jwks)
	v.logger.Debug("signing keys loaded", slog.Int("keys", n))
	return jwks, n, nil
}

func rsaKeyCount(ctx context.Context, jwks keyfunc.Keyfunc) int {
	keys, err := jwks.Storage().KeyReadAll(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, k := range keys {
		if _, ok := k.Key().(*rsa.PublicKey); ok {
			n++
		}
	}
	return n
}

func validIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ AssertionDecoder = (*GoogleIDTokenVerifier)(nil)
