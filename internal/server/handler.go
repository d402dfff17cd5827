package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// validate is the shared validator instance for request validation.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names so the dashboard can highlight the right input.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// DecodeAndValidate decodes the command payload into data and validates it.
// On failure the error response has already been sent and false is returned.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd.Type, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}

	if err := validate.Struct(data); err != nil {
		SendError(send, cmd.Type, toValidationError(err))
		return false
	}
	return true
}

// HandleCommand decodes and validates a request, runs process and replies
// with a WSCommandResult. Handlers with their own reply shape use
// DecodeAndValidate directly.
func HandleCommand[T any](h *CommandHandler, cmd WSCommand, send chan<- any, process func(*T) error) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	if err := process(&data); err != nil {
		SendError(send, cmd.Type, err)
		return
	}
	SendSuccess(send, cmd.Type, nil)
}

// HandleActionAsync runs action in its own goroutine and replies with its result.
// Used for actions that block on the network, such as archive uploads.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd.Type, errors.New("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, result)
	}()
}

// SendSuccess sends a successful WSCommandResult with optional data.
func SendSuccess(send chan<- any, cmdType string, data any) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: true,
		Data:    data,
	})
}

// SendError sends a failed WSCommandResult. Validation errors keep their
// per-field structure; everything else is sent as its message.
func SendError(send chan<- any, cmdType string, err error) {
	result := types.WSCommandResult{Type: cmdType + "_result"}

	var verr *types.ValidationError
	if errors.As(err, &verr) && !verr.Empty() {
		result.Error = verr
	} else {
		result.Error = err.Error()
	}
	trySend(send, cmdType, result)
}

// SendMeterResult reports the outcome of a start or stop on one session.
func SendMeterResult(send chan<- any, action, session string, err error) {
	result := types.WSMeterResult{
		Type:    "meter_result",
		Action:  action,
		ID:      session,
		Success: err == nil,
	}
	if err != nil {
		result.Error = err.Error()
	}
	trySend(send, "meter", result)
}

// toValidationError converts validator output to a ValidationError.
func toValidationError(err error) *types.ValidationError {
	verr := types.NewValidationError()

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("", err.Error(), nil)
		return verr
	}
	for _, e := range fieldErrs {
		verr.Add(e.Field(), util.ValidationMessage(e.Tag(), e.Param()), e.Value())
	}
	return verr
}

// trySend queues msg without blocking. A full queue means the client is
// not keeping up, so the reply is dropped.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full or closed", "type", cmdType)
	}
}
