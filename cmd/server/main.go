package main

import "github.com/eleven-am/sentinel-backend/internal/bootstrap"

func main() {
	bootstrap.Run()
}
