// Package familytree is the family-tree data set used to exercise bulk
// operations end to end: self-referencing trees, a composite-key link
// table, a home with renamed columns and a note with a store-assigned key.
package familytree

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sqlbulk/internal/schema"
)

// FamilyTree is one person. Father, Mother and Home are optional.
type FamilyTree struct {
	Id           uuid.UUID `bulk:",pk"`
	IsActive     bool
	CreatedDate  time.Time `bulk:",created"`
	ModifiedDate time.Time
	IsAlive      bool
	Gender       string
	Birthdate    time.Time
	FatherId     uuid.NullUUID
	MotherId     uuid.NullUUID
	HomeId       uuid.NullUUID

	Father           *FamilyTree      `bulk:"-,ref=FatherId"`
	Mother           *FamilyTree      `bulk:"-,ref=MotherId"`
	Home             *FamilyHome      `bulk:"-,ref=HomeId"`
	Siblings         []FamilyTreeLink `bulk:"-,fk=SecondarySiblingId"`
	CounterSiblings  []FamilyTreeLink `bulk:"-,fk=PrimarySiblingId"`
	PaternalChildren []FamilyTree     `bulk:"-,fk=FatherId"`
	MaternalChildren []FamilyTree     `bulk:"-,fk=MotherId"`
}

func (FamilyTree) TableName() string { return "FamilyTrees" }

// FamilyTreeLink joins two siblings. The key is the (primary, secondary) pair.
type FamilyTreeLink struct {
	PrimarySiblingId   uuid.UUID `bulk:",pk"`
	SecondarySiblingId uuid.UUID `bulk:",pk"`
	IsActive           bool
	CreatedDate        time.Time `bulk:",created"`
	ModifiedDate       time.Time

	PrimarySibling   *FamilyTree `bulk:"-,ref=PrimarySiblingId"`
	SecondarySibling *FamilyTree `bulk:"-,ref=SecondarySiblingId"`
}

func (FamilyTreeLink) TableName() string { return "FamilyTreeLink" }

// FamilyHome stores its key and name under column names that differ from
// the property names.
type FamilyHome struct {
	Id           uuid.UUID `bulk:"HomeId,pk"`
	Name         string    `bulk:"Home_Name"`
	Address      string
	IsActive     bool
	CreatedDate  time.Time `bulk:",created"`
	ModifiedDate time.Time

	Families []FamilyTree `bulk:"-,fk=HomeId"`
}

func (FamilyHome) TableName() string { return "FamilyHome" }

// FamilyNote is a note on a tree whose key is assigned by the store.
type FamilyNote struct {
	Id          int64 `bulk:",pk,generated"`
	TreeId      uuid.UUID
	Body        string
	CreatedDate time.Time `bulk:",created"`
}

func (FamilyNote) TableName() string { return "FamilyNotes" }

// Entities lists the data set's entity types in creation order.
func Entities() []reflect.Type {
	return []reflect.Type{
		reflect.TypeFor[FamilyHome](),
		reflect.TypeFor[FamilyTree](),
		reflect.TypeFor[FamilyTreeLink](),
		reflect.TypeFor[FamilyNote](),
	}
}

// Register adds every entity to m under its own table name.
func Register(m *schema.Mapper) {
	schema.Register[FamilyHome](m, FamilyHome{}.TableName())
	schema.Register[FamilyTree](m, FamilyTree{}.TableName())
	schema.Register[FamilyTreeLink](m, FamilyTreeLink{}.TableName())
	schema.Register[FamilyNote](m, FamilyNote{}.TableName())
}
