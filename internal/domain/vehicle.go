package domain

// VehicleMapping is the built-in mapping for fleet vehicle spreadsheets,
// the default when a submission carries no explicit mapping_config.
// Expected header: modelo, placa, ano, valor_fipe.
func VehicleMapping() *MappingConfig {
	return &MappingConfig{
		TargetTable: "imported_vehicles",
		CreateTable: false,
		Columns: []ColumnMapping{
			{SourceColumn: "modelo", DBColumn: "modelo", Type: FieldString, Required: true},
			{SourceColumn: "placa", DBColumn: "placa", Type: FieldString, Required: true, Unique: true, Validate: ValidatePlate},
			{SourceColumn: "ano", DBColumn: "ano", Type: FieldInt, Required: true, Validate: ValidateYear},
			{SourceColumn: "valor_fipe", DBColumn: "valor_fipe", Type: FieldDecimal, Required: true, Validate: ValidatePositive},
		},
	}
}
