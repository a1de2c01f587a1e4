// Package logx wraps zerolog behind a small, stable logging API.
//
// Components receive a Logger (usually derived with With(String("comp", ...)))
// and never touch zerolog directly, so sinks and levels can be swapped at
// runtime via the owning Service without re-plumbing loggers.
package logx
