package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
)

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	bcryptCost int
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

type User struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
}

type StudentRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateStudentInput struct {
	Username string
	Email    string
	Password string
	FullName string
}

type UpdateStudentInput struct {
	Email    string
	FullName string
	Password string // optional; empty keeps the current hash
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user User
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, password_hash
		FROM users
		WHERE (lower(username) = $1 OR lower(email) = $1) AND is_active = TRUE
	`, identifier).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// CreateSession issues an opaque token; only its SHA-256 digest is
// stored server-side.
func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	expiresAt := time.Now().Add(s.sessionTTL)

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, hashToken(token), userID, ipAddress, userAgent, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		  AND u.is_active = TRUE
	`, hashToken(token)).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return &user, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE token = $1 AND revoked_at IS NULL
	`, hashToken(token)); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Service) ListStudents(ctx context.Context, q string, limit, offset int) ([]StudentRecord, error) {
	if limit <= 0 {
		limit = 100
	} else if limit > 10000 {
		limit = 10000
	}
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + strings.TrimSpace(strings.ToLower(q)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, is_active, created_at
		FROM users
		WHERE role = 'student'
		  AND ($1 = '%%' OR lower(username) LIKE $1 OR lower(full_name) LIKE $1 OR lower(COALESCE(email, '')) LIKE $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	items := make([]StudentRecord, 0)
	for rows.Next() {
		var rec StudentRecord
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.IsActive, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return items, nil
}

func (s *Service) CreateStudent(ctx context.Context, in CreateStudentInput) (*StudentRecord, error) {
	username := strings.TrimSpace(strings.ToLower(in.Username))
	fullName := strings.TrimSpace(in.FullName)
	if username == "" || fullName == "" || len(in.Password) < 8 {
		return nil, ErrInvalidInput
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidInput
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	rec := &StudentRecord{}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, is_active)
		VALUES ($1, NULLIF($2, ''), $3, $4, 'student', TRUE)
		ON CONFLICT (username) DO NOTHING
		RETURNING id, username, email, full_name, is_active, created_at
	`, username, email, string(hash), fullName).Scan(
		&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.IsActive, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert student: %w", err)
	}
	return rec, nil
}

func (s *Service) UpdateStudent(ctx context.Context, studentID int64, in UpdateStudentInput) (*StudentRecord, error) {
	if studentID <= 0 {
		return nil, ErrInvalidInput
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return nil, ErrInvalidInput
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidInput
		}
	}

	newHash := ""
	if in.Password != "" {
		if len(in.Password) < 8 {
			return nil, ErrInvalidInput
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		newHash = string(hash)
	}

	rec := &StudentRecord{}
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = NULLIF($2, ''),
			full_name = $3,
			password_hash = CASE WHEN $4 = '' THEN password_hash ELSE $4 END,
			updated_at = now()
		WHERE id = $1 AND role = 'student'
		RETURNING id, username, email, full_name, is_active, created_at
	`, studentID, email, fullName, newHash).Scan(
		&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.IsActive, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update student: %w", err)
	}
	return rec, nil
}

func (s *Service) DeactivateStudent(ctx context.Context, studentID int64) error {
	if studentID <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND role = 'student'
	`, studentID)
	if err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate student rows: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
