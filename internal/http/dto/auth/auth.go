// Package auth define los DTOs de los endpoints de autenticación.
package auth

// LoginRequest es el body de POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPairResponse es la respuesta de login: el par de tokens.
type TokenPairResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresIn  int64  `json:"accessExpiresIn"`  // segundos
	RefreshExpiresIn int64  `json:"refreshExpiresIn"` // segundos
	TokenType        string `json:"tokenType"`        // "Bearer"
}

// RefreshRequest es el body de POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse es la respuesta del exchange: solo un access token nuevo,
// el refresh presentado sigue vigente.
type RefreshResponse struct {
	AccessToken     string `json:"accessToken"`
	AccessExpiresIn int64  `json:"accessExpiresIn"`
	TokenType       string `json:"tokenType"`
}

// LogoutRequest es el body de POST /v1/auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// MessageResponse es una respuesta genérica con mensaje.
type MessageResponse struct {
	Message string `json:"message"`
}

// LogoutAllResponse reporta cuántos tokens y sesiones se cerraron.
type LogoutAllResponse struct {
	Message         string `json:"message"`
	RevokedTokens   int    `json:"revokedTokens"`
	ClosedSessions  int    `json:"closedSessions"`
}

// MeResponse es el UserContext resuelto del usuario autenticado.
type MeResponse struct {
	UserID      int64          `json:"userId"`
	Email       string         `json:"email"`
	ProfileID   *int64         `json:"profileId,omitempty"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// ChangePasswordRequest es el body de POST /v1/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
