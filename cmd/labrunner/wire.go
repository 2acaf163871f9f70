//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/goomon/persistlab/internal/config"
)

//go:generate go run github.com/google/wire/cmd/wire

func initializeLabApp(ctx context.Context, cfg *config.Config) (*labApp, func(), error) {
	panic(wire.Build(
		provideUnit,
		provideFactory,
		provideServer,
		newLabApp,
	))
}
