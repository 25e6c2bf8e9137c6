// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns. Every model has ToDomain and FromDomain mappers; repositories
// only ever hand domain types to callers.
//
// JSON columns use gorm.io/datatypes so the same models work on PostgreSQL (jsonb)
// and SQLite (json text) in tests.
package models
