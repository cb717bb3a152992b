// Package docs provides generated OpenAPI documentation.
//
// Quizmill API
//
//	@title			Quizmill API
//	@version		1.0
//	@description	Quiz question extraction API for uploading PDFs, processing chunks, and exporting questions.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/quizmill/quizmill
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/quizmill/serve.go -o ./swagger --parseDependency --parseInternal
