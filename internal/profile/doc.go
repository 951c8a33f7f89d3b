// Package profile loads the device profile catalog.
//
// A profile is a YAML file describing one kind of Tuya device: a primary
// entity, optional secondary entities, and the data points behind each.
// The file name without ".yaml" is the profile's config type, the value
// stored as a device's type.
//
//	name: Smart plug v2
//	primary_entity:
//	  entity: switch
//	  dps:
//	    - id: 1
//	      name: switch
//	      type: boolean
//	secondary_entities:
//	  - entity: sensor
//	    name: Power
//	    dps:
//	      - id: 19
//	        name: sensor
//	        type: integer
//
// Built-in profiles are embedded in the binary. Files in the configured
// profiles directory are loaded after them and replace built-ins with the
// same config type.
//
// Catalog implements tuya.Catalog, so a session can infer its device type:
// candidates are profiles whose required data points are all reported with
// matching value types, scored by the share of reported data points they
// cover.
package profile
