package familytree

import (
	"fmt"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/google/uuid"
)

const day = 24 * time.Hour

// SimpleTrees returns n unrelated trees born on consecutive days before now.
func SimpleTrees(n int, gender string, alive bool, now time.Time) []FamilyTree {
	now = now.UTC().Truncate(time.Second)
	trees := make([]FamilyTree, n)
	for i := range trees {
		trees[i] = tree(now, now.Add(-time.Duration(i)*day), gender, alive)
	}
	return trees
}

// ComplexTrees returns n "Kiwi" siblings sharing a father ("Strawberry") and
// a mother ("Banana"), followed by the two parents, plus one sibling link per
// ordered pair of children.
func ComplexTrees(n int, now time.Time) ([]FamilyTree, []FamilyTreeLink) {
	now = now.UTC().Truncate(time.Second)
	father := tree(now, now.Add(-365*day), "Strawberry", true)
	mother := tree(now, now.Add(-364*day), "Banana", true)

	trees := SimpleTrees(n, "Kiwi", true, now)
	for i := range trees {
		trees[i].FatherId = uuid.NullUUID{UUID: father.Id, Valid: true}
		trees[i].MotherId = uuid.NullUUID{UUID: mother.Id, Valid: true}
	}

	links := make([]FamilyTreeLink, 0, n*(n-1))
	for i := range trees {
		for j := range trees {
			if i == j {
				continue
			}
			links = append(links, FamilyTreeLink{
				PrimarySiblingId:   trees[i].Id,
				SecondarySiblingId: trees[j].Id,
				IsActive:           true,
				CreatedDate:        now,
				ModifiedDate:       now,
			})
		}
	}

	return append(trees, father, mother), links
}

// SimpleHomes returns n homes with generated names and addresses.
func SimpleHomes(n int, now time.Time) []FamilyHome {
	now = now.UTC().Truncate(time.Second)
	homes := make([]FamilyHome, n)
	for i := range homes {
		homes[i] = FamilyHome{
			Id:           uuid.New(),
			Name:         fmt.Sprintf("%s House %d", faker.LastName(), i),
			Address:      fmt.Sprintf("%d %s Place Apt #%d", 100+i, faker.LastName(), i),
			IsActive:     true,
			CreatedDate:  now,
			ModifiedDate: now,
		}
	}
	return homes
}

// Notes returns one note per tree with a generated body. Keys are left to the store.
func Notes(trees []FamilyTree) []FamilyNote {
	notes := make([]FamilyNote, len(trees))
	for i, t := range trees {
		notes[i] = FamilyNote{TreeId: t.Id, Body: faker.Sentence()}
	}
	return notes
}

func tree(now, birthdate time.Time, gender string, alive bool) FamilyTree {
	return FamilyTree{
		Id:           uuid.New(),
		IsActive:     true,
		CreatedDate:  now,
		ModifiedDate: now,
		IsAlive:      alive,
		Gender:       gender,
		Birthdate:    birthdate,
	}
}
