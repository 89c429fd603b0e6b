package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"EchoMark/model"
)

// ErrDuplicateUser is returned when a username or email is already taken.
var ErrDuplicateUser = errors.New("username or email already exists")

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	CreateUser(user *model.User) (int64, error)
	GetUserByID(id int64) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
	AddUsedStorage(userID int64, delta int64) error
}

// mysqlUserRepository implements UserRepository for MySQL.
type mysqlUserRepository struct {
	db *sql.DB
}

// NewMySQLUserRepository creates a new mysqlUserRepository.
func NewMySQLUserRepository(db *sql.DB) UserRepository {
	return &mysqlUserRepository{db: db}
}

// CreateUser adds a new user to the database.
func (r *mysqlUserRepository) CreateUser(user *model.User) (int64, error) {
	role := user.Role
	if role == "" {
		role = model.RoleUser
	}

	query := "INSERT INTO users (username, email, password_hash, role) VALUES (?, ?, ?, ?)"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create user statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(user.Username, user.Email, user.PasswordHash, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate entry") {
			return 0, ErrDuplicateUser
		}
		return 0, fmt.Errorf("failed to execute create user statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for user: %w", err)
	}
	return id, nil
}

func (r *mysqlUserRepository) scanUser(row *sql.Row, context string) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.UsedStorage, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to scan user row for %s: %w", context, err)
	}
	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (r *mysqlUserRepository) GetUserByID(id int64) (*model.User, error) {
	query := "SELECT id, username, email, password_hash, role, used_storage, created_at, updated_at FROM users WHERE id = ?"
	return r.scanUser(r.db.QueryRow(query, id), fmt.Sprintf("ID %d", id))
}

// GetUserByUsername retrieves a user by their username.
func (r *mysqlUserRepository) GetUserByUsername(username string) (*model.User, error) {
	query := "SELECT id, username, email, password_hash, role, used_storage, created_at, updated_at FROM users WHERE username = ?"
	return r.scanUser(r.db.QueryRow(query, username), fmt.Sprintf("username %s", username))
}

// GetUserByEmail retrieves a user by their email address.
func (r *mysqlUserRepository) GetUserByEmail(email string) (*model.User, error) {
	query := "SELECT id, username, email, password_hash, role, used_storage, created_at, updated_at FROM users WHERE email = ?"
	return r.scanUser(r.db.QueryRow(query, email), fmt.Sprintf("email %s", email))
}

// AddUsedStorage increments the user's cumulative storage counter.
func (r *mysqlUserRepository) AddUsedStorage(userID int64, delta int64) error {
	query := "UPDATE users SET used_storage = used_storage + ?, updated_at = NOW() WHERE id = ?"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare add used storage statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(delta, userID)
	if err != nil {
		return fmt.Errorf("failed to execute add used storage for user ID %d: %w", userID, err)
	}
	return nil
}
