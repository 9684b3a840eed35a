// Package auth はIDアサーションの検証、ドメイン許可リスト、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/boletin/internal/model"
	"github.com/hitoshi/boletin/internal/repository"
)

// サインイン試行の結果ラベル
const (
	SignInGranted = "granted"
	SignInDenied  = "denied"
	SignInInvalid = "invalid"
)

// AnonymousEmail はAUTH_DISABLED時に付与する匿名ユーザーのemail。
const AnonymousEmail = "anonymous@localhost"

// SignInRecorder はサインイン試行の結果を記録する。
type SignInRecorder interface {
	RecordSignIn(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignIn(string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int  // セッション有効期間（秒）
	AuthDisabled  bool // trueの場合は全リクエストを匿名ユーザーとして許可する
}

// Service はセッションゲートのビジネスロジックを提供する。
type Service struct {
	decoder     AssertionDecoder
	allowlist   *Allowlist
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	bootstrap   *ProviderBootstrap
	recorder    SignInRecorder
	config      ServiceConfig
	logger      *slog.Logger

	now          func() time.Time
	newSessionID func() (string, error)
}

// NewService はServiceを生成する。
// bootstrap、recorder、loggerはnilでもよい。
func NewService(
	decoder AssertionDecoder,
	allowlist *Allowlist,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	bootstrap *ProviderBootstrap,
	recorder SignInRecorder,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if bootstrap == nil {
		bootstrap = NewProviderBootstrap(nil, 0, 0, logger)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		decoder:      decoder,
		allowlist:    allowlist,
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		bootstrap:    bootstrap,
		recorder:     recorder,
		config:       config,
		logger:       logger,
		now:          time.Now,
		newSessionID: generateSessionID,
	}
}

// SessionMaxAge はセッション有効期間を返す。
func (s *Service) SessionMaxAge() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// AuthDisabled は認証が無効化されているかを返す。
func (s *Service) AuthDisabled() bool {
	return s.config.AuthDisabled
}

// ResolveAccess は永続化済みセッションからアクセス可否を判定する。
// セッションがない、または期限切れの場合はAwaitingProviderを返す。
// 期限切れのセッションは削除する。
func (s *Service) ResolveAccess(ctx context.Context, sessionID string) (*model.Access, error) {
	if s.config.AuthDisabled {
		return model.NewGrantedAccess(s.anonymousSession()), nil
	}
	if sessionID == "" {
		return model.NewAwaitingProviderAccess(), nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return model.NewAwaitingProviderAccess(), nil
	}

	if session.Expired(s.now()) {
		if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			s.logger.Error("failed to delete expired session",
				slog.String("error", err.Error()),
			)
		}
		return model.NewAwaitingProviderAccess(), nil
	}

	return model.NewGrantedAccess(session), nil
}

// HandleAssertion はIDプロバイダーから受け取ったアサーションを処理する。
// 許可ドメインならユーザーを登録・更新してセッションを発行しGrantedを返す。
// 許可ドメイン外ならDeniedを返し、何も永続化しない。
// デコードに失敗した場合は model.ErrAssertionDecode をラップしたエラーを返す。
func (s *Service) HandleAssertion(ctx context.Context, credential string) (*model.Access, error) {
	claims, err := s.decoder.Decode(ctx, credential)
	if err != nil {
		s.recorder.RecordSignIn(SignInInvalid)
		s.logger.Warn("identity assertion rejected", slog.String("error", err.Error()))
		return nil, err
	}

	email := claims.Email
	if !s.allowlist.Allows(email) || claims.EmailUnverified() {
		s.recorder.RecordSignIn(SignInDenied)
		s.logger.Info("access denied",
			slog.String("email", email),
			slog.String("domain", Domain(email)),
			slog.Bool("email_unverified", claims.EmailUnverified()),
		)
		return model.NewDeniedAccess(email), nil
	}

	now := s.now()
	user := &model.User{
		Email:       strings.ToLower(email),
		Name:        claims.Name,
		Picture:     claims.Picture,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if err := s.userRepo.UpsertByEmail(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	session, err := s.createSession(ctx, user, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recorder.RecordSignIn(SignInGranted)
	s.logger.Info("access granted",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return model.NewGrantedAccess(session), nil
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("user signed out")
	return nil
}

// ProviderReady はIDプロバイダーが利用可能になるまで待つ。
func (s *Service) ProviderReady(ctx context.Context) error {
	return s.bootstrap.Wait(ctx)
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User, now time.Time) (*model.Session, error) {
	sessionID, err := s.newSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		User:      *user,
		ExpiresAt: now.Add(s.SessionMaxAge()),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// anonymousSession はAUTH_DISABLED時の永続化しないセッションを返す。
func (s *Service) anonymousSession() *model.Session {
	now := s.now()
	return &model.Session{
		User:      model.User{Email: AnonymousEmail, Name: "Anónimo"},
		ExpiresAt: now.Add(s.SessionMaxAge()),
		CreatedAt: now,
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
