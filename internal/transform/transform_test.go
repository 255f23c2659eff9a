package transform

import (
	"strings"
	"testing"
	"unicode/utf8"

	"metasync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestPriceToCents(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "49.99", want: 4999},
		{in: "19.99", want: 1999},
		{in: "0.29", want: 29},
		{in: "100", want: 10000},
		{in: "7.5", want: 750},
		{in: "7.555", want: 756},
		{in: "7.554", want: 755},
		{in: "$12.00", want: 1200},
		{in: "1,234.56", want: 123456},
		{in: ".99", want: 99},
		{in: "-3.10", want: -310},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "12.3x", wantErr: true},
	}

	for _, tc := range cases {
		got, err := PriceToCents(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("PriceToCents(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("PriceToCents(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("PriceToCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func sampleProduct() *models.Product {
	return &models.Product{
		ID:          "p-1",
		Name:        "Ceramic Mug",
		Description: "A sturdy mug",
		Price:       "19.99",
		ImageURL:    "http://cdn.example.com/mug.jpg",
		Images: []string{
			"http://cdn.example.com/mug.jpg", // duplicate of primary
			"http://cdn.example.com/mug-side.jpg",
		},
		Category:   "kitchen",
		InStock:    true,
		StockCount: intPtr(3),
	}
}

func TestTransform(t *testing.T) {
	item := Transform(sampleProduct())

	assert.Equal(t, "p-1", item.RetailerID)
	assert.Equal(t, int64(1999), item.Price)
	assert.Equal(t, models.DefaultCurrency, item.Currency)
	assert.Equal(t, models.AvailabilityInStock, item.Availability)
	assert.Equal(t, "https://cdn.example.com/mug.jpg", item.ImageURL)
	// Primary is excluded from additional images
	require.Len(t, item.AdditionalImageURLs, 1)
	assert.Equal(t, "https://cdn.example.com/mug-side.jpg", item.AdditionalImageURLs[0])
	assert.Zero(t, item.SalePrice)
}

func TestTransformDeterministic(t *testing.T) {
	p := sampleProduct()
	first := Transform(p)
	second := Transform(p)
	assert.Equal(t, first, second)
}

func TestTransformAvailability(t *testing.T) {
	cases := []struct {
		name    string
		inStock bool
		count   *int
		want    string
	}{
		{"in stock nil count", true, nil, models.AvailabilityInStock},
		{"in stock positive count", true, intPtr(5), models.AvailabilityInStock},
		{"in stock zero count", true, intPtr(0), models.AvailabilityOutOfStock},
		{"flag off", false, intPtr(5), models.AvailabilityOutOfStock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := sampleProduct()
			p.InStock = tc.inStock
			p.StockCount = tc.count
			assert.Equal(t, tc.want, Transform(p).Availability)
		})
	}
}

func TestTransformSalePrice(t *testing.T) {
	p := sampleProduct()
	p.Price = "14.99"
	p.OriginalPrice = "19.99"

	item := Transform(p)
	assert.Equal(t, int64(1999), item.Price)
	assert.Equal(t, int64(1499), item.SalePrice)

	// No sale when the original does not exceed the current price
	p.OriginalPrice = "14.99"
	item = Transform(p)
	assert.Equal(t, int64(1499), item.Price)
	assert.Zero(t, item.SalePrice)
}

func TestTransformClampsAndLimits(t *testing.T) {
	p := sampleProduct()
	p.Name = strings.Repeat("n", 200)
	p.Description = strings.Repeat("d", 6000)
	p.Images = nil
	for i := 0; i < 15; i++ {
		p.Images = append(p.Images, "https://cdn.example.com/img-"+string(rune('a'+i))+".jpg")
	}

	item := Transform(p)
	assert.Len(t, item.Name, models.NameMaxLen)
	assert.Len(t, item.Description, models.DescriptionMaxLen)
	assert.Len(t, item.AdditionalImageURLs, models.MaxAdditionalImgs)
}

func TestTransformClampKeepsRuneBoundary(t *testing.T) {
	p := sampleProduct()
	// "é" is two bytes; the offset puts every rune start at an odd byte
	// so a byte-indexed cut would land mid-rune.
	p.Name = "x" + strings.Repeat("é", 200)

	item := Transform(p)
	assert.True(t, utf8.ValidString(item.Name))
	assert.LessOrEqual(t, len(item.Name), models.NameMaxLen)
}

func TestValidate(t *testing.T) {
	assert.Empty(t, Validate(sampleProduct()))

	p := sampleProduct()
	p.ImageURL = ""
	problems := Validate(p)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "image")

	p = sampleProduct()
	p.Price = "0"
	problems = Validate(p)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "price")

	problems = Validate(&models.Product{})
	assert.GreaterOrEqual(t, len(problems), 4)
}

func TestHasChanged(t *testing.T) {
	base := Transform(sampleProduct())

	same := Transform(sampleProduct())
	assert.False(t, HasChanged(same, base))

	changed := Transform(sampleProduct())
	changed.Price = 2199
	assert.True(t, HasChanged(changed, base))

	changed = Transform(sampleProduct())
	changed.Availability = models.AvailabilityOutOfStock
	assert.True(t, HasChanged(changed, base))

	assert.True(t, HasChanged(nil, base))
	assert.False(t, HasChanged(nil, nil))
}
