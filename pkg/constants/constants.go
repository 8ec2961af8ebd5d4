package constants

import "time"

// Target is the operating system a reboot is directed at.
type Target string

const (
	Name = "tdlock"

	// TargetTrusted is the trusted (theft deterrent) OS.
	TargetTrusted Target = "trusted"
	// TargetNormal is the regular OS the device ships with.
	TargetNormal Target = "normal"

	// TicksPerYear is the number of secure clock ticks in a year. Ticks are seconds.
	TicksPerYear uint32 = 60 * 60 * 24 * 365
	// PermanentSpanYears is the certificate span above which a certificate never expires.
	PermanentSpanYears uint32 = 50

	// BootCertificateIndex is the NV index holding the boot certificate.
	BootCertificateIndex uint32 = 0x10001003
	// BootCertificateSize is the fixed size of the boot certificate record.
	BootCertificateSize = 24

	// ProvisionPacketIndex is the NV index the theft deterrent server drops provision packets into.
	ProvisionPacketIndex uint32 = 0x10001004
	// ProvisionPacketSize is the size of the provision packet region.
	ProvisionPacketSize = 541
	// UnlockCodeLength is the length of the unlock code, not counting its type byte.
	UnlockCodeLength = 10

	// SecureStorageFirstIndex is the first of the three NV regions locked after a successful check.
	SecureStorageFirstIndex uint32 = 0x10001001
	// SecureStorageRegions is the number of consecutive NV regions locked after a successful check.
	SecureStorageRegions = 3

	// DefaultTPMChip is the TPM chip used when none is configured.
	DefaultTPMChip = 0
	// TPMDevicePattern is formatted with the chip index.
	TPMDevicePattern = "/dev/tpm%d"
	// DefaultMEIDevice is the MEI character device.
	DefaultMEIDevice = "/dev/mei0"
	// DefaultDeviceWait is how long device nodes are waited for during early boot.
	DefaultDeviceWait = 3 * time.Second

	// MKHIClientUUID identifies the ME kernel host interface client serving the secure clock.
	MKHIClientUUID = "8e6a6715-9abc-4043-88ef-9e39c6f63e0f"
	// UMIPClientUUID identifies the client serving the ACD provisioning storage.
	UMIPClientUUID = "afa19346-7459-4f09-9dad-36611fe42860"

	// ACDFlagByte and ACDFlagByteAlt are the recognized "feature present" flag values.
	// The second one is found on PVT samples.
	ACDFlagByte    byte = 0x11
	ACDFlagByteAlt byte = 0x01
	// ACDFlagLength is the length of the feature flag at the start of the record.
	ACDFlagLength = 8
	// ACDRecordLength is the size of the provisioning record handed to callers.
	ACDRecordLength = 64
	// ACDFieldIndex is the ACD field holding the theft deterrent record.
	ACDFieldIndex uint32 = 17

	// LoaderGUIDString is the GUID of the systemd-boot loader variables.
	LoaderGUIDString = "4a67b082-0a4c-41cf-b6c7-440b29bb8c4f"
	// LoaderEntryLastName records the entry that was booted.
	LoaderEntryLastName = "LoaderEntryLast"
	// LoaderEntryOneShotName selects the entry for the next boot only.
	LoaderEntryOneShotName = "LoaderEntryOneShot"

	// DefaultTrustedEntry is the loader entry of the trusted OS; it is also the boot reason sentinel.
	DefaultTrustedEntry = "tdos"
	// DefaultNormalEntry is the loader entry of the normal OS.
	DefaultNormalEntry = "android"

	// KmsgPrefix prefixes every line written to the kernel log.
	KmsgPrefix = "[tdlock]"
)
