// Package httpserver exposes the container registration and
// synchronization protocol over HTTP.
//
// The API surface:
//
//   - POST /container/init — create a container of a registered type
//   - GET /container/{serial} — public container details
//   - DELETE /container/{serial} — delete a container
//   - GET /container/types — registered container types and options
//   - POST /container/register/initialize — issue a registration offer
//   - POST /container/register/finalize — complete the device pairing
//   - POST /container/register/terminate — unpair a device
//   - POST /container/challenge — issue a synchronization challenge
//   - POST /container/synchronize — signed token-set reconciliation
//
// Plus the operational endpoints /livez, /readyz, /drain and /undrain,
// and optionally pprof under /debug.
//
// Protocol responses carry challenge signatures verified by the container
// layer; the handlers only translate between HTTP and the domain errors.
package httpserver
