package api

import (
	"time"

	"github.com/labstack/echo/v4"
)

// envelope is the uniform response shape:
// {success, data|error, timestamp} plus an optional message.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Count     *int        `json:"count,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func ok(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func okMessage(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func okCount(c echo.Context, status int, data interface{}, count int) error {
	return c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Count:     &count,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, envelope{
		Success:   false,
		Error:     msg,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
