package gibridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"

	"github.com/gibridge/gibridge/webhook"
)

var (
	validate      = validator.New()
	schemaDecoder = schema.NewDecoder()
)

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
}

// serveOperation decodes arguments, runs the interceptor chain and
// dispatches the operation, writing the result envelope.
func (a *App) serveOperation(ctx context.Context, w http.ResponseWriter, r *http.Request, op *Operation) {
	args, err := a.decodeArgs(w, r, op)
	if err != nil {
		a.handleError(w, err)
		return
	}

	finalHandler := func(ctx context.Context, args map[string]any) (any, error) {
		return a.dispatcher.Dispatch(ctx, op, args)
	}

	var res any
	if chain := chainInterceptors(a.interceptors); chain != nil {
		res, err = chain(ctx, args, finalHandler)
	} else {
		res, err = finalHandler(ctx, args)
	}
	if err != nil {
		a.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if encErr := encodeResponse(w, res); encErr != nil {
		logger := a.logger
		if logger == nil {
			logger = slog.Default()
		}
		// Response may be partially written, nothing we can do. Log for debugging.
		logger.Error("failed to encode response",
			slog.String("operation", op.ID.String()),
			slog.Any("error", encErr))
	}
}

// decodeArgs collects operation arguments from the query string and,
// for POST and PUT, from a JSON body. Body values take precedence.
func (a *App) decodeArgs(w http.ResponseWriter, r *http.Request, op *Operation) (map[string]any, error) {
	args := make(map[string]any)

	query := r.URL.Query()
	for _, spec := range opParamSpecs(op) {
		values, ok := query[spec.Name]
		if !ok || len(values) == 0 {
			continue
		}
		args[spec.Name] = DecodeParam(spec, values)
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		if r.Body != nil {
			if a.maxRequestBodySize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, int64(a.maxRequestBodySize))
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				// Empty body (EOF) is OK - treat as empty request ({})
				if !errors.Is(err, io.EOF) {
					return nil, Errorf(CodeInvalidArgument, "failed to decode body: %v", err)
				}
			}
			for k, v := range body {
				args[k] = v
			}
		}
	}

	return args, nil
}

// opParamSpecs lists the decodable parameters of an operation: its
// declared call arguments plus the synthetic self and value parameters
// for methods and field accessors.
func opParamSpecs(op *Operation) []ParamSpec {
	var specs []ParamSpec
	if op.NeedsSelf() {
		specs = append(specs, querySpec("self", &Schema{Type: "object"}))
	}
	for _, p := range op.Params {
		specs = append(specs, querySpec(p.Name, p.Schema))
	}
	if op.Kind == OpFieldPut {
		specs = append(specs, querySpec("value", schemaForTag(op.FieldType.Tag)))
	}
	return specs
}

// querySpec builds the decode spec for one query parameter. Object
// references arrive as non-exploded "ptr,<value>" pairs, so any
// object-schema parameter, self included, switches off form-style
// exploding.
func querySpec(name string, s *Schema) ParamSpec {
	spec := ParamSpec{Name: name, In: "query", Schema: s}
	if s != nil && s.Type == "object" {
		explode := false
		spec.Explode = &explode
	}
	return spec
}

func schemaForTag(tag TypeTag) *Schema {
	switch tag {
	case TagBool:
		return &Schema{Type: "boolean"}
	case TagInt8, TagUint8, TagInt16, TagUint16, TagInt32, TagUint32,
		TagInt64, TagUint64, TagGType:
		return &Schema{Type: "integer"}
	case TagFloat, TagDouble:
		return &Schema{Type: "number"}
	case TagString:
		return &Schema{Type: "string"}
	case TagPointer, TagStruct:
		return &Schema{Type: "object"}
	}
	return nil
}

// webhookRegistration is the request body of POST /{namespace}/webhooks.
type webhookRegistration struct {
	webhook.Config
	MaxBatch  int `json:"max_batch" schema:"max_batch" validate:"omitempty,min=1,max=1000"`
	MaxWaitMS int `json:"max_wait_ms" schema:"max_wait_ms" validate:"omitempty,min=1"`
}

// serveWebhookRegistration registers a signed webhook destination and
// starts forwarding callback notifications to it until the app closes.
func (a *App) serveWebhookRegistration(w http.ResponseWriter, r *http.Request) {
	var reg webhookRegistration

	if a.maxRequestBodySize > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, int64(a.maxRequestBodySize))
	}
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		if !errors.Is(err, io.EOF) {
			a.handleError(w, Errorf(CodeInvalidArgument, "failed to decode body: %v", err))
			return
		}
		// No body: fall back to query parameters.
		if err := schemaDecoder.Decode(&reg, r.URL.Query()); err != nil {
			a.handleError(w, Errorf(CodeInvalidArgument, "failed to decode query: %v", err))
			return
		}
	}

	if err := validate.Struct(reg); err != nil {
		a.handleError(w, err)
		return
	}

	n := webhook.NewNotifier(reg.Config, a.logger)
	sub := a.bridge.Subscribe()

	a.sinkWG.Add(1)
	go func() {
		defer a.sinkWG.Done()
		defer sub.Close()
		defer n.Close()

		if reg.MaxBatch > 1 {
			b := webhook.NewBatcher(n, reg.MaxBatch, time.Duration(reg.MaxWaitMS)*time.Millisecond, a.logger)
			defer b.Close()
			for {
				ev, err := sub.Next(a.sinkCtx)
				if err != nil {
					return
				}
				b.Add(ev.Payload)
			}
		}
		for {
			ev, err := sub.Next(a.sinkCtx)
			if err != nil {
				return
			}
			if err := n.Notify(a.sinkCtx, ev.Payload); err != nil && a.sinkCtx.Err() != nil {
				return
			}
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	if err := encodeResponse(w, map[string]any{"id": n.ID()}); err != nil {
		logger := a.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}
