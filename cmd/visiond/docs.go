package main

// General API documentation for swaggo. Run `swag init` to generate docs.
//
// @title           visiond API
// @version         1.0
// @description     OpenAI-compatible HTTP API for vision-language model inference.
//
// @contact.name   visiond maintainers
// @contact.url    https://github.com/azaj01/openedai-vision
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
