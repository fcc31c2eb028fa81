package backend

import "github.com/tesseradb/tessera/app"

// CName is the name the database service resolves its Backend under.
const CName = "backend"

// Init makes InMemory registrable as an app component.
func (b *InMemory) Init(a *app.App) error {
	return nil
}

func (b *InMemory) Name() string {
	return CName
}
