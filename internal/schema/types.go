package schema

// Schema represents a complete database schema
type Schema struct {
	Tables []Table
}

// Table represents a database table
type Table struct {
	Name       string
	Columns    []Column
	Relations  []Relation
	Indexes    []Index
	PrimaryKey []string

	// IndividualPrompt is the per-table generation instruction chosen when
	// the table is selected for a run. Empty for plain introspection.
	IndividualPrompt string
}

// Column represents a table column
type Column struct {
	Name            string
	Type            string
	Nullable        bool
	DefaultValue    *string
	IsUnique        bool
	IsPrimaryKey    bool
	EnumValues      []string
	CheckConstraint *string
	ForeignKey      *ForeignKey
}

// ForeignKey points a column at the referenced table and column
type ForeignKey struct {
	Table  string
	Column string
}

// Relation represents a foreign key relationship
type Relation struct {
	TargetTable  string
	TargetColumn string
	SourceColumn string
	Cardinality  string // one-to-one, many-to-one, uncertain
}

// Relationship cardinalities reported by the extractors
const (
	OneToOne  = "one-to-one"
	ManyToOne = "many-to-one"
	Uncertain = "uncertain"
)

// Index represents a database index
type Index struct {
	Name     string
	Columns  []string
	IsUnique bool
}

// Table returns the named table, or nil when the schema has no such table
func (s *Schema) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// TableNames returns table names in schema order
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}
