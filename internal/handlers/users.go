package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.sentinel/internal/guard"
	"uk.co.dudmesh.sentinel/internal/model"
)

func ListUsers(userService UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		directory, err := userService.Directory(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, directory)
	}
}

func UpdateUser(userService UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id < 1 {
			return fmt.Errorf("%w: bad user id", model.ErrorInvalidInput)
		}

		update := &model.ProfileUpdate{}
		if err := c.Bind(update); err != nil {
			return model.ErrorInvalidInput
		}

		// admins may not deactivate themselves
		if claims, ok := guard.ClaimsFrom(c); ok && claims.UserID == model.UserID(id) && update.IsActive != nil && !*update.IsActive {
			return fmt.Errorf("%w: cannot deactivate your own account", model.ErrorInvalidInput)
		}

		user, err := userService.UpdateProfile(c.Request().Context(), model.UserID(id), update)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, user)
	}
}
