// Package integration runs the lightning-observation-map binary against a
// mock feed provider and a local AWS stack (localstack).
//
// The binary must be installed in $PATH (`go install .`). The AWS tests expect
// S3, SNS and SQS endpoints listening on the localstack default ports.
//
// `go test` flags supported:
//
//   -debug
//
//    Enable debug mode.
//
// Example: go test -v ./integration/... -debug
//
package integration
