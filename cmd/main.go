package main

import (
	"log"

	"eventmarket/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// missing .env is fine, configuration falls back to the environment
	_ = godotenv.Load()

	app, err := app.NewApp()
	if err != nil {
		log.Fatal(err)
	}

	app.Run()
}
