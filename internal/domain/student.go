package domain

// Parent is the guardian who receives SMS about a student.
type Parent struct {
	ID    string
	Name  string
	Phone string
}

// Student is a read-only directory record. The dispatch core never mutates
// students or parents; their lifecycle belongs to the school administration
// modules.
type Student struct {
	ID        string
	FirstName string
	LastName  string
	Matricule string
	Classe    string
	Niveau    string
	Status    string
	Active    bool
	Parent    *Parent
}

// FullName joins first and last name for template substitution.
func (s Student) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	default:
		return s.FirstName + " " + s.LastName
	}
}
