// Package mocks holds gomock test doubles for the injector's external
// boundaries.
package mocks

//go:generate mockgen -destination=registry.go -package=mocks github.com/injector/injector/pkg/tracking Registry
//go:generate mockgen -destination=launcher.go -package=mocks github.com/injector/injector/pkg/orchestrator Launcher
