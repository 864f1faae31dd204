package device

// Well-known GATT UUIDs (16-bit short form, normalized without dashes)
const (
	ServiceGenericAccess      = "1800"
	ServiceGenericAttribute   = "1801"
	ServiceDeviceInformation  = "180a"
	ServiceHealthThermometer  = "1809"
	ServiceBattery            = "180f"
	CharacteristicDeviceName  = "2a00"
	CharacteristicAppearance  = "2a01"
	CharacteristicBatteryLvl  = "2a19"
	CharacteristicTempMeasure = "2a1c"
	CharacteristicTempType    = "2a1d"
	CharacteristicIntermTemp  = "2a1e"
)

// knownNames maps normalized UUIDs to their assigned or vendor names.
var knownNames = map[string]string{
	ServiceGenericAccess:      "Generic Access",
	ServiceGenericAttribute:   "Generic Attribute",
	ServiceDeviceInformation:  "Device Information",
	ServiceHealthThermometer:  "Health Thermometer",
	ServiceBattery:            "Battery Service",
	CharacteristicDeviceName:  "Device Name",
	CharacteristicAppearance:  "Appearance",
	CharacteristicBatteryLvl:  "Battery Level",
	CharacteristicTempMeasure: "Temperature Measurement",
	CharacteristicTempType:    "Temperature Type",
	CharacteristicIntermTemp:  "Intermediate Temperature",

	// TI SensorTag accelerometer, used by the pacifier
	"f000aa1004514000b000000000000000": "Accelerometer Service",
	"f000aa1104514000b000000000000000": "Accelerometer Data",
	"f000aa1204514000b000000000000000": "Accelerometer Configuration",
}

// KnownName returns the name of a well-known service or characteristic, or "" if unknown.
func KnownName(uuid string) string {
	return knownNames[NormalizeUUID(uuid)]
}

// DescribeUUID returns the short UUID followed by its known name, if any.
func DescribeUUID(uuid string) string {
	short := ShortenUUID(NormalizeUUID(uuid))
	if name := KnownName(uuid); name != "" {
		return short + " (" + name + ")"
	}
	return short
}
