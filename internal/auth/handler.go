package auth

import (
	"errors"
	"strings"

	"pos-backend/internal/config"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type RegisterAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

func userResponse(u *models.User) fiber.Map {
	return fiber.Map{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
		"role":  u.Role,
	}
}

func createUser(c *fiber.Ctx, users store.Users, name, email, password string, role models.UserRole) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" || strings.TrimSpace(name) == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "name, email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "password could not be hashed")
	}

	user := &models.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := users.CreateUser(c.UserContext(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fiber.NewError(fiber.StatusConflict, "email already registered")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "user could not be created")
	}
	return user, nil
}

// RegisterAdminHandler bootstraps the first admin. Once any user exists it
// refuses.
func RegisterAdminHandler(users store.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterAdminRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		count, err := users.CountUsers(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "users could not be counted")
		}
		if count > 0 {
			return fiber.NewError(fiber.StatusForbidden, "an admin already exists")
		}

		user, err := createUser(c, users, body.Name, body.Email, body.Password, models.RoleAdmin)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(userResponse(user))
	}
}

// CreateUserHandler lets an admin add managers and employees.
func CreateUserHandler(users store.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		switch body.Role {
		case models.RoleAdmin, models.RoleManager, models.RoleEmployee:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "role must be admin, manager or employee")
		}

		user, err := createUser(c, users, body.Name, body.Email, body.Password, body.Role)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(userResponse(user))
	}
}

func LoginHandler(cfg *config.Config, users store.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		email := strings.TrimSpace(strings.ToLower(body.Email))
		user, err := users.GetUserByEmail(c.UserContext(), email)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
		}

		token, err := GenerateToken(cfg.JWTSecret, user)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "token could not be created")
		}

		return c.JSON(fiber.Map{
			"token": token,
			"user":  userResponse(user),
		})
	}
}

func MeHandler(users store.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c.UserContext())
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
		}

		user, err := users.GetUser(c.UserContext(), actor.ID)
		if err != nil {
			// Fall back to the token claims when the user row is gone.
			return c.JSON(fiber.Map{
				"id":   actor.ID,
				"name": actor.Name,
				"role": actor.Role,
			})
		}
		return c.JSON(userResponse(user))
	}
}
