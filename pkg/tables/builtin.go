package tables

// CompetitionsIdentity is the lomba table.
func CompetitionsIdentity() Identity {
	return Identity{
		Kind:           Competitions,
		Table:          "lomba",
		ConflictKey:    "registration_url",
		CleanProcedure: "clean_lomba_simple",
		Columns: []Column{
			{Name: "title", Type: TypeText},
			{Name: "description", Type: TypeText},
			{Name: "organizer", Type: TypeText},
			{Name: "poster_url", Type: TypeURL, Aliases: []string{"image_url"}},
			{Name: "registration_url", Type: TypeURL, Aliases: []string{"url"}},
			{Name: "source_url", Type: TypeURL},
			{Name: "date_text", Type: TypeText, Aliases: []string{"date"}},
			{Name: "price_text", Type: TypeText, Aliases: []string{"prize"}},
			{Name: "participant", Type: TypeText},
			{Name: "location", Type: TypeText},
		},
	}
}

// ScholarshipsIdentity is the beasiswa table.
func ScholarshipsIdentity() Identity {
	return Identity{
		Kind:           Scholarships,
		Table:          "beasiswa",
		ConflictKey:    "source_url",
		CleanProcedure: "clean_beasiswa_simple",
		Columns: []Column{
			{Name: "title", Type: TypeText},
			{Name: "education_level", Type: TypeText},
			{Name: "location", Type: TypeText},
			{Name: "deadline_date", Type: TypeDate, Aliases: []string{"deadline"}},
			{Name: "source_url", Type: TypeURL},
			{Name: "image_url", Type: TypeURL},
			{Name: "registration_url", Type: TypeURL},
		},
	}
}

// InternshipsIdentity is the magang table.
func InternshipsIdentity() Identity {
	return Identity{
		Kind:           Internships,
		Table:          "magang",
		ConflictKey:    "source_url",
		CleanProcedure: "clean_magang_simple",
		Columns: []Column{
			{Name: "title", Type: TypeText},
			{Name: "company", Type: TypeText, Aliases: []string{"organizer"}},
			{Name: "location", Type: TypeText},
			{Name: "deadline_date", Type: TypeDate, Aliases: []string{"deadline"}},
			{Name: "source_url", Type: TypeURL},
			{Name: "registration_url", Type: TypeURL},
			{Name: "image_url", Type: TypeURL},
			{Name: "description", Type: TypeText},
		},
	}
}

// Builtin returns the built-in identities with overrides applied.
func Builtin(overrides map[Kind]Override) []Identity {
	ids := []Identity{CompetitionsIdentity(), ScholarshipsIdentity(), InternshipsIdentity()}
	for i, id := range ids {
		if o, ok := overrides[id.Kind]; ok {
			ids[i] = o.Apply(id)
		}
	}
	return ids
}
