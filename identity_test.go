package usbboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBitExactTable(t *testing.T) {
	cases := []struct {
		vendor, product uint16
		want            Classification
	}{
		{0x0a5c, 0x2763, Classification{Kind: BootCapable, Family: FamilyCm3Like}},
		{0x0a5c, 0x2764, Classification{Kind: BootCapable, Family: FamilyCm3Like}},
		{0x0a5c, 0x2711, Classification{Kind: BootCapable, Family: FamilyCm4}},
		{0x0a5c, 0x0001, Classification{Kind: MassStorageOfInterest}},
		{0x0525, 0xa4a5, Classification{Kind: MassStorageOfInterest}},
		{0x1234, 0x5678, Classification{Kind: Unrelated}},
	}

	for _, c := range cases {
		got := Classify(c.vendor, c.product)
		assert.Equal(t, c.want.Kind, got.Kind)
		assert.Equal(t, c.want.Family, got.Family)
		assert.Equal(t, c.vendor, got.Vendor)
		assert.Equal(t, c.product, got.Product)
	}
}

func TestClassifyIsPure(t *testing.T) {
	a := Classify(0x0a5c, 0x2711)
	b := Classify(0x0a5c, 0x2711)
	assert.Equal(t, a, b)
}

func TestPortIDFormatsPortChain(t *testing.T) {
	assert.Equal(t, "1-1.2", PortID(1, []int{1, 2}))
	assert.Equal(t, "3", PortID(3, nil))
}

func TestDeviceIDFormat(t *testing.T) {
	assert.Equal(t, "2:5", DeviceID(2, 5))
}

func TestFamilyLastStep(t *testing.T) {
	assert.Equal(t, 40, FamilyCm3Like.LastStep())
	assert.Equal(t, 10, FamilyCm4.LastStep())
	assert.Equal(t, 0, FamilyUnknown.LastStep())
}

func TestFamilyStringIsBlobSubdir(t *testing.T) {
	assert.Equal(t, "raspberrypi", FamilyCm3Like.String())
	assert.Equal(t, "cm4", FamilyCm4.String())
}
