package model

// AccessOutcome はアクセス判定の結果種別。
type AccessOutcome string

const (
	// AccessGranted は有効なセッションまたはアサーションによりアクセスが許可されたことを示す。
	AccessGranted AccessOutcome = "granted"
	// AccessDenied は許可リスト外のドメインのためアクセスが拒否されたことを示す。
	AccessDenied AccessOutcome = "denied"
	// AccessAwaitingProvider は有効なセッションがなく、IDプロバイダーでのサインインを待つ状態を示す。
	AccessAwaitingProvider AccessOutcome = "awaiting_provider"
)

// Access はセッションゲートの判定結果。
// Granted の場合は User と Session、Denied の場合は Email が設定される。
type Access struct {
	Outcome AccessOutcome
	User    *User
	Session *Session
	Email   string
}

// Granted はアクセスが許可されたかを返す。
func (a *Access) Granted() bool {
	return a != nil && a.Outcome == AccessGranted
}

// NewGrantedAccess は許可結果を生成する。
func NewGrantedAccess(session *Session) *Access {
	user := session.User
	return &Access{
		Outcome: AccessGranted,
		User:    &user,
		Session: session,
	}
}

// NewDeniedAccess は拒否結果を生成する。
func NewDeniedAccess(email string) *Access {
	return &Access{Outcome: AccessDenied, Email: email}
}

// NewAwaitingProviderAccess はプロバイダー待ち結果を生成する。
func NewAwaitingProviderAccess() *Access {
	return &Access{Outcome: AccessAwaitingProvider}
}
