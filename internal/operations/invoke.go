package operations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/query"
)

// Invocation carries the HTTP side of a call.
type Invocation struct {
	// Method is the HTTP verb used to invoke the operation.
	Method         string
	HTTPRequest    *http.Request
	ResponseWriter http.ResponseWriter
	Request        *query.Request
}

// Invoke checks authorization once more and calls the resolved operation.
// Asynchronous results are awaited. Panics become NotSpecified errors.
func (c *Center) Invoke(ctx context.Context, call *CallingContext, inv Invocation) (interface{}, error) {
	op := call.Operation
	path := ""
	if call.Content != nil {
		path = call.Content.Path
	}
	ctx, span := c.obs.Tracer().StartOperation(ctx, op.Key, path)
	defer span.End()
	timing := observability.StartServerTiming(ctx, observability.TimingInvoke)
	defer timing.Stop()

	start := time.Now()
	result, err := c.invoke(ctx, call, inv)
	outcome := "ok"
	if err != nil {
		code := string(odataerrors.NotSpecified)
		if e, ok := odataerrors.As(err); ok {
			code = string(e.Code)
		}
		outcome = code
		observability.RecordError(span, err, code)
	}
	c.obs.Metrics().RecordOperation(ctx, op.Key, outcome, time.Since(start))
	return result, err
}

func (c *Center) invoke(ctx context.Context, call *CallingContext, inv Invocation) (interface{}, error) {
	op := call.Operation
	if op.CausesStateChange && (inv.Method == http.MethodGet || inv.Method == http.MethodHead) {
		return nil, odataerrors.New(odataerrors.IllegalInvoke, "Operation %s changes state and cannot be invoked with %s", op.Name, inv.Method)
	}
	if err := c.checkInvocation(ctx, call); err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]reflect.Value, 0, len(op.slots)+1)
	args = append(args, reflect.ValueOf(call.Content))
	for _, s := range op.slots {
		switch s.kind {
		case slotContext:
			args = append(args, reflect.ValueOf(&ctx).Elem())
		case slotHTTPRequest:
			args = append(args, reflect.ValueOf(inv.HTTPRequest))
		case slotResponseWriter:
			w := reflect.New(responseWriterType).Elem()
			if inv.ResponseWriter != nil {
				w.Set(reflect.ValueOf(inv.ResponseWriter))
			}
			args = append(args, w)
		case slotQueryRequest:
			args = append(args, reflect.ValueOf(inv.Request))
		case slotConfig:
			args = append(args, reflect.ValueOf(c.config))
		default:
			args = append(args, call.args[s.param])
		}
	}

	out, err := c.call(op, args)
	if err != nil {
		return nil, err
	}
	return c.unwrap(ctx, op, out)
}

// checkInvocation re-verifies authorization right before the call.
func (c *Center) checkInvocation(ctx context.Context, call *CallingContext) error {
	op := call.Operation
	if auth.FromContext(ctx).System {
		return nil
	}
	if op.Auth.IsEmpty() {
		return odataerrors.Denied("Operation %s declares no authorization", op.Name)
	}
	ok, err := c.authorized(ctx, call.Content, op)
	if err != nil {
		return err
	}
	if !ok {
		return odataerrors.Denied("Access denied to operation %s", op.Name)
	}
	if r := c.evaluatePolicies(ctx, call.Content, op); r != PolicyEnabled {
		return odataerrors.Denied("Operation %s is %s", op.Name, r)
	}
	return nil
}

func (c *Center) call(op *OperationInfo, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Operation panicked", "operation", op.Key, "panic", r)
			err = odataerrors.Wrap(odataerrors.NotSpecified, fmt.Errorf("operation %s panicked: %v", op.Key, r), "Operation failed")
		}
	}()
	return op.fn.Call(args), nil
}

func (c *Center) unwrap(ctx context.Context, op *OperationInfo, out []reflect.Value) (interface{}, error) {
	var value reflect.Value
	switch op.results {
	case resultNone:
		return nil, nil
	case resultError:
		return nil, errorOf(out[0])
	case resultValue:
		value = out[0]
	case resultValueError:
		if err := errorOf(out[1]); err != nil {
			return nil, err
		}
		value = out[0]
	}

	switch op.async {
	case resultChanType:
		ch := value.Interface().(<-chan Result)
		if ch == nil {
			return nil, nil
		}
		select {
		case r := <-ch:
			return r.Value, r.Err
		case <-ctx.Done():
			return nil, c.expired(ctx, op)
		}
	case errorChanType:
		ch := value.Interface().(<-chan error)
		if ch == nil {
			return nil, nil
		}
		select {
		case err := <-ch:
			return nil, err
		case <-ctx.Done():
			return nil, c.expired(ctx, op)
		}
	}
	return valueOf(value), nil
}

func (c *Center) expired(ctx context.Context, op *OperationInfo) error {
	err := ctx.Err()
	c.logger.Error("Operation did not complete", "operation", op.Key, "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return odataerrors.Wrap(odataerrors.NotSpecified, err, "Operation timed out")
	}
	return odataerrors.Wrap(odataerrors.NotSpecified, err, "Operation was cancelled")
}

func errorOf(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

// valueOf returns nil for nil pointers, maps, slices and interfaces.
func valueOf(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}
