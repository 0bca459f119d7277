// Package jsonrpc implements a JSON-RPC 2.0 server that dispatches batches of
// calls to registered procedures through a middleware pipeline.
//
// This package implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification)
// over HTTP POST with an application/json body.
//
// # Basic Usage
//
// Create a server, register procedures, and serve it:
//
//	s := jsonrpc.NewServer()
//	s.Register(jsonrpc.Typed("add", addSchema, func(ctx context.Context, p AddParams, _ *jsonrpc.State) (any, error) {
//	    return p.A + p.B, nil
//	}))
//	http.Handle("/rpc", s)
//
// # Procedures
//
// A procedure is any Definition: a name, an optional JSON Schema for its
// params, and a constructor that binds params and the transaction State to a
// Procedure whose Call produces the result. Func and Typed cover the common
// cases.
//
// # Batches
//
// A request body is a single call object or an array of them. Calls are run
// one after another, in order, and every call gets exactly one entry in the
// reply. A reply with a single entry is written as a bare object, even if
// the request was an array.
//
// A call without an id is answered with its position in the batch as id.
//
// # Middleware
//
// Middleware hooks run at four points: OnRequest and OnResponse once per
// transaction, BeforeCall and AfterCall once per call. All hooks of one
// point run concurrently and the pipeline continues once all have returned.
// A failing OnRequest or OnResponse hook aborts the whole transaction; a
// failing BeforeCall or AfterCall hook fails only its call.
//
// # Error Handling
//
// Return an *Error to choose the code explicitly:
//
//	return nil, jsonrpc.NewError(jsonrpc.CodeObjectNotFound, "no such user")
//
// Errors without a code are matched against the ErrorClass table given with
// WithErrorClasses, in order, and default to CodeInternalError:
//
//	jsonrpc.NewServer(jsonrpc.WithErrorClasses(
//	    jsonrpc.ClassIs(sql.ErrNoRows, jsonrpc.CodeObjectNotFound),
//	    jsonrpc.ClassOf[*ValidationError](jsonrpc.CodeValidationError),
//	))
//
// Reserved codes:
//   - CodeParseError (-32700)
//   - CodeInvalidRequest (-32600)
//   - CodeMethodNotFound (-32601)
//   - CodeInvalidParams (-32602)
//   - CodeInternalError (-32603)
//   - CodeUnauthorized (1)
//   - CodeActionNotAllowed (2)
//   - CodeValidationError (-32001)
//   - CodeObjectNotFound (-32002)
//   - CodeNothingToDelete (-32003)
package jsonrpc
