// Package docs holds the general API annotations and the registered
// OpenAPI document served at /swagger. Regenerate docs.go with
// `swag init -g internal/docs/swagger.go -o internal/docs`.
package docs

// @title VashSender API
// @version 1.0
// @description Email marketing API: accounts, sending domains, contact lists, templates, bulk campaigns and delivery analytics.

// @contact.name VashSender Support
// @contact.email support@vashsender.ru

// @BasePath /
// @schemes https http

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter the access token with the `Bearer ` prefix, e.g. "Bearer abcde12345".

// @tag.name auth
// @tag.description Registration, login and token refresh

// @tag.name team
// @tag.description Team members and roles

// @tag.name campaigns
// @tag.description Campaign lifecycle and reporting

// @tag.name analytics
// @tag.description Tracking events, engagement and exports

// @tag.name Contacts
// @tag.description Lists, contacts and file imports

// @tag.name Templates
// @tag.description Email templates and previews

// @tag.name SMTP
// @tag.description Custom SMTP relays

// @tag.name domains
// @tag.description Sending domains and DNS verification

// @tag.name senders
// @tag.description Confirmed From addresses

// @tag.name subscriptions
// @tag.description Plans, usage and payments

// @tag.name tracking
// @tag.description Public open, click and unsubscribe links
