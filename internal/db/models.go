package db

import "database/sql"

// File is one row of the files table. Timestamps are epoch seconds.
type File struct {
	ID         int64
	Name       string
	Original   string
	Type       string
	Size       int64
	Hash       string
	IP         sql.NullString
	UserID     sql.NullInt64
	AlbumID    sql.NullInt64
	Timestamp  int64
	ExpiryDate sql.NullInt64
}

// Album is one row of the albums table. Enabled=0 is a soft delete.
type Album struct {
	ID             int64
	Name           string
	Identifier     string
	UserID         int64
	Enabled        bool
	Public         bool
	Download       bool
	Description    string
	Timestamp      int64
	EditedAt       int64
	ZipGeneratedAt int64
}

type User struct {
	ID           int64
	Username     string
	Password     string
	Token        string
	Enabled      bool
	Permission   int
	Timestamp    int64
	Registration int64
}
