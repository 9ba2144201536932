// Package auth — периметр шлюза: статические bearer-токены двух уровней
// (read/write) и привязка результата к контексту запроса.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

const (
	MsgMissingHeader = "Missing Authorization header"
	MsgInvalidHeader = "Invalid Authorization header"
	MsgInvalidToken  = "Invalid token"
)

// Tokens — пара настроенных токенов.
type Tokens struct {
	Read  string
	Write string
}

// Result — исход аутентификации. При OK заполнены Scope и Token, иначе Error.
type Result struct {
	OK    bool
	Scope domain.Scope
	Token string
	Error string
}

// Authenticate разбирает значение заголовка Authorization.
// Чистая функция: без I/O и без состояния.
func Authenticate(header string, tokens Tokens) Result {
	if header == "" {
		return Result{Error: MsgMissingHeader}
	}
	scheme, token, _ := strings.Cut(header, " ")
	if scheme != "Bearer" || token == "" || strings.ContainsAny(token, " \t") {
		return Result{Error: MsgInvalidHeader}
	}
	// write проверяется первым
	if tokenEqual(token, tokens.Write) {
		return Result{OK: true, Scope: domain.ScopeWrite, Token: token}
	}
	if tokenEqual(token, tokens.Read) {
		return Result{OK: true, Scope: domain.ScopeRead, Token: token}
	}
	return Result{Error: MsgInvalidToken}
}

func tokenEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
